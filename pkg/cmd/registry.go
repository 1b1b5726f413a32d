package cmd

import (
	"log/slog"

	"github.com/convoflow/convoflow/pkg/actions/airesponse"
	"github.com/convoflow/convoflow/pkg/actions/assignment"
	"github.com/convoflow/convoflow/pkg/actions/gateway"
	"github.com/convoflow/convoflow/pkg/actions/notification"
	"github.com/convoflow/convoflow/pkg/actions/sendmessage"
	"github.com/convoflow/convoflow/pkg/actions/tagging"
	"github.com/convoflow/convoflow/pkg/registry"
)

// NewRegistry builds the action registry with every native action wired to
// the engagement gateway.
func NewRegistry(logger *slog.Logger, gatewayConfig gateway.Config) *registry.Registry {
	client := gateway.NewClient(gatewayConfig, logger)

	reg := registry.NewRegistry(logger)
	reg.RegisterAction(sendmessage.NewActionFactory(client))
	reg.RegisterAction(tagging.NewActionFactory(client))
	reg.RegisterAction(assignment.NewActionFactory(client))
	reg.RegisterAction(notification.NewActionFactory(client))
	reg.RegisterAction(airesponse.NewActionFactory(client))

	return reg
}
