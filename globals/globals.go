package globals

// Signing keys, derived from APP_SECRET at startup.
var (
	JwtSecret []byte
	QRSecret  []byte
)

// Context keys
type ContextKey string

const RoleKey ContextKey = "role"
const UserIDKey ContextKey = "userId"
