package shared

// Doorlock permissions.
const (
	PermDoorlockCardsRead    = "doorlock:cards:read"
	PermDoorlockCardsWrite   = "doorlock:cards:write"
	PermDoorlockDevicesRead  = "doorlock:devices:read"
	PermDoorlockDevicesWrite = "doorlock:devices:write"
	PermDoorlockFlagsWrite   = "doorlock:flags:write"
)

// DoorlockScopes lists all permissions related to the doorlock core.
func DoorlockScopes() []string {
	return []string{
		PermDoorlockCardsRead,
		PermDoorlockCardsWrite,
		PermDoorlockDevicesRead,
		PermDoorlockDevicesWrite,
		PermDoorlockFlagsWrite,
	}
}
