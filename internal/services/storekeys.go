package services

import "sportsbook-settlement-backend/internal/models"

const (
	KeyAccount           = "accounts/%s"
	KeyAccountsIndex     = "accounts:index"
	KeyTicket            = "accounts/%s/%s/%s"
	KeyTicketIndex       = "accounts/%s/%s:index"
	KeyNotification      = "accounts/%s/notifications/%s"
	KeyNotificationIndex = "accounts/%s/notifications:index"
	KeyResultHistory     = "resultsHistory/%s"
	KeyLiveSnapshot      = "liveSnapshots/%d"
	KeyLiveSnapshotIndex = "liveSnapshots:index"

	// Keep only the most recent entries in the rolling indexes.
	MaxNotifications = 100
	MaxLiveSnapshots = 50
)

// ticketCollection maps a ticket kind to its store path segment.
func ticketCollection(kind models.TicketKind) string {
	if kind == models.TicketKindVirtual {
		return "virtualTickets"
	}
	return "tickets"
}
