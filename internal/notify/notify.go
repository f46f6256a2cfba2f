// Package notify is the capability port for desktop/browser notifications.
// The core never talks to a platform notification API directly; hosts that
// have one implement Notifier, everything else runs on Nop.
package notify

type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

type Notifier interface {
	Supported() bool
	Permission() Permission
	RequestPermission() error
	Show(title, body string) error
}

// Nop is the no-notification implementation used in headless targets.
type Nop struct{}

func (Nop) Supported() bool               { return false }
func (Nop) Permission() Permission        { return PermissionDenied }
func (Nop) RequestPermission() error      { return nil }
func (Nop) Show(title, body string) error { return nil }
