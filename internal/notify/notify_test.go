package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
)

// fakeObject records Notify calls. Methods other than CallWithContext are
// left to the embedded nil interface and must not be used.
type fakeObject struct {
	dbus.BusObject
	calls [][]interface{}
	reply uint32
	err   error
}

func (f *fakeObject) CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	f.calls = append(f.calls, args)
	if f.err != nil {
		return &dbus.Call{Method: method, Err: f.err}
	}
	return &dbus.Call{Method: method, Body: []interface{}{f.reply}}
}

func TestNotifyReplacesPrevious(t *testing.T) {
	obj := &fakeObject{reply: 7}
	n := &Notifier{obj: obj, timeout: time.Second}

	if err := n.Notify(context.Background(), "first", "body"); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}
	if err := n.Alert(context.Background(), "second", "body"); err != nil {
		t.Fatalf("Alert() error: %v", err)
	}

	if len(obj.calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(obj.calls))
	}
	if id := obj.calls[0][1].(uint32); id != 0 {
		t.Errorf("first replaces_id = %d, want 0", id)
	}
	if id := obj.calls[1][1].(uint32); id != 7 {
		t.Errorf("second replaces_id = %d, want 7", id)
	}
	if summary := obj.calls[1][3].(string); summary != "second" {
		t.Errorf("summary = %q", summary)
	}
	if expire := obj.calls[1][7].(int32); expire != 0 {
		t.Errorf("critical expire = %d, want 0", expire)
	}
}

func TestNotifyError(t *testing.T) {
	obj := &fakeObject{err: errors.New("no notification daemon")}
	n := &Notifier{obj: obj, timeout: time.Second}

	if err := n.Notify(context.Background(), "x", "y"); err == nil {
		t.Fatal("expected error")
	}
	if err := n.Close(); err != nil {
		t.Errorf("Close() without connection: %v", err)
	}
}
