package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/bryanchriswhite/witcher/internal/logger"
)

// DefaultClientTimeout bounds a whole request when ctx has no deadline. It
// outlasts the server's default reply timeout so that a timeout reply still
// reaches the client.
const DefaultClientTimeout = DefaultReplyTimeout + time.Second

// SendCommand sends one command to the daemon at socketPath and returns its reply.
func SendCommand(ctx context.Context, socketPath, command string) (Response, error) {
	log := logger.WithComponent("ipc-client")

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultClientTimeout)
		defer cancel()
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return Response{}, fmt.Errorf("failed to connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	log.Debug().Str("path", socketPath).Str("command", command).Msg("Sending command")

	if err := json.NewEncoder(conn).Encode(Request{Command: command}); err != nil {
		return Response{}, fmt.Errorf("failed to send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("failed to read response: %w", err)
	}

	log.Debug().Str("status", resp.Status).Str("message", resp.Message).Msg("Response received")
	return resp, nil
}
