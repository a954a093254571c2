package services

import "sportsbook-settlement-backend/internal/models"

// Broadcaster pushes a persisted notification to any live client
// connection the owner has open. Emission must never block or fail
// settlement; implementations drop messages for absent clients.
type Broadcaster interface {
	NotifyUser(userID string, n *models.Notification)
}
