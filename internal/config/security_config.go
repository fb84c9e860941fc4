// config/security_config.go
package config

type SecurityLevel int

const (
	SecurityPublic SecurityLevel = iota // No authentication
	SecurityMember                      // Valid member access token required
	SecurityBoard                       // Access token with the board role required
)

// EndpointSecurityConfig maps HTTP route names to their required security level
var EndpointSecurityConfig = map[string]SecurityLevel{
	"health": SecurityPublic,

	// Items
	"items.list":    SecurityMember,
	"items.get":     SecurityMember,
	"items.rentals": SecurityMember,

	// Rentals - member
	"rentals.submit": SecurityMember,
	"rentals.mine":   SecurityMember,
	"rentals.return": SecurityMember,
	"legacy.return":  SecurityMember,

	// Rentals - board
	"rentals.approve":        SecurityBoard,
	"rentals.reject":         SecurityBoard,
	"rentals.confirm_return": SecurityBoard,
	"legacy.confirm_return":  SecurityBoard,
	"rentals.export":         SecurityBoard,

	// Mass mail - board
	"massmail.send":   SecurityBoard,
	"massmail.list":   SecurityBoard,
	"massmail.get":    SecurityBoard,
	"massmail.resume": SecurityBoard,

	// Notifications
	"notifications.list": SecurityMember,
	"notifications.read": SecurityMember,
}

// GetSecurityLevel returns the security level for a given route
func GetSecurityLevel(route string) SecurityLevel {
	if level, exists := EndpointSecurityConfig[route]; exists {
		return level
	}
	// Default to highest security for unknown endpoints
	return SecurityBoard
}
