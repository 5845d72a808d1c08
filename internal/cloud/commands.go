package cloud

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nerrad567/lmbridge/internal/model"
)

// SendCommand posts a control command. With a dashboard stream open for
// serial, it waits up to CommandTimeout for the machine to confirm the
// command and returns the confirmed status, or CommandTimeout. If ctx ends
// first the acknowledgement is returned with ctx's error. Without a stream
// it returns the REST acknowledgement, typically Pending.
func (c *Client) SendCommand(ctx context.Context, serial string, cmd model.Command) (model.CommandResponse, error) {
	var acks []model.CommandResponse
	path := thingPath(serial, "command", cmd.Name)
	if err := c.authed(ctx, http.MethodPost, path, cmd.Payload, &acks); err != nil {
		return model.CommandResponse{}, fmt.Errorf("sending %s: %w", cmd.Describe(serial), err)
	}
	if len(acks) == 0 {
		return model.CommandResponse{}, fmt.Errorf("sending %s: %w", cmd.Describe(serial), ErrEmptyResponse)
	}
	ack := acks[0]
	c.log().Debug("command acknowledged", "serial", serial, "command", cmd.Name, "id", ack.ID, "status", ack.Status)

	if ack.Status.Final() || ack.ID == "" {
		return ack, nil
	}
	s := c.stream(serial)
	if s == nil {
		return ack, nil
	}
	resp, err := s.awaitCommand(ctx, ack, c.cfg.CommandTimeout)
	if err != nil {
		return resp, fmt.Errorf("awaiting %s: %w", cmd.Describe(serial), err)
	}
	return resp, nil
}
