package usercontext

// Session keys written at login and read back on every web request.
const (
	SessionUserID  = "user_id"
	SessionName    = "username"
	SessionIsAdmin = "is_admin"
)
