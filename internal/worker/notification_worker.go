package worker

import (
	"github.com/spec-kit/maintenance-service/internal/events"
	"github.com/spec-kit/maintenance-service/internal/realtime"
	"github.com/spec-kit/maintenance-service/internal/service"
)

// StartNotificationWorker registers the event consumers: the external notifier
// and the realtime chat hub.
func StartNotificationWorker(dispatcher events.Dispatcher, notificationService *service.NotificationService, hub *realtime.Hub) {
	if notificationService != nil {
		notificationService.RegisterHandlers()
	}
	if hub != nil && dispatcher != nil {
		hub.Register(dispatcher)
	}
}
