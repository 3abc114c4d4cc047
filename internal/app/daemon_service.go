package app

import (
	"context"
)

type DaemonService interface {
	TreasuryAPI
	StartAutoSync(ctx context.Context) error
	StopAutoSync(ctx context.Context) error
	SubscribeNotifications(cursor int64) ([]NotificationEvent, <-chan NotificationEvent, func())
}
