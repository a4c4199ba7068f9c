package panel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// Actuator performs the destructive lifecycle actions. With DryRun set it
// only logs what it would have done and reports success.
type Actuator struct {
	client *Client
	dryRun bool
	logger *slog.Logger
}

func NewActuator(client *Client, dryRun bool) *Actuator {
	return &Actuator{client: client, dryRun: dryRun, logger: client.logger}
}

func (a *Actuator) DryRun() bool { return a.dryRun }

// Suspend succeeds only on 204 No Content.
func (a *Actuator) Suspend(ctx context.Context, id string) error {
	if a.dryRun {
		a.logger.Info("[dry-run] would suspend server", "server_id", id)
		return nil
	}
	return a.expectNoContent(ctx, http.MethodPost, serverPath(id)+"/suspend", "suspend", id)
}

// Delete succeeds only on 204 No Content.
func (a *Actuator) Delete(ctx context.Context, id string) error {
	if a.dryRun {
		a.logger.Info("[dry-run] would delete server", "server_id", id)
		return nil
	}
	return a.expectNoContent(ctx, http.MethodDelete, serverPath(id), "delete", id)
}

func (a *Actuator) expectNoContent(ctx context.Context, method, path, action, id string) error {
	resp, err := a.client.do(ctx, method, path)
	if err != nil {
		return fmt.Errorf("%s server %s: %w", action, id, err)
	}
	if resp.status != http.StatusNoContent {
		return fmt.Errorf("%w: %s server %s returned %d", ErrUnexpectedStatus, action, id, resp.status)
	}
	a.logger.Info("server "+action+" accepted", "server_id", id)
	return nil
}
