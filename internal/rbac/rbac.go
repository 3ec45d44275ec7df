package rbac

// Role constants
const (
	RoleOwner  = "owner"
	RoleSigner = "signer"
	RoleNone   = ""
)

// Permission constants
const (
	PermViewWallet      = "view_wallet"
	PermManageSigners   = "manage_signers"
	PermManageWallet    = "manage_wallet"
	PermInitiateRequest = "initiate_request"
	PermCancelRequest   = "cancel_request"
	PermBroadcast       = "broadcast"
)

// RolePermissions defines what each role can do on a wallet.
var RolePermissions = map[string][]string{
	RoleOwner: {
		PermViewWallet, PermManageSigners, PermManageWallet,
		PermInitiateRequest, PermCancelRequest, PermBroadcast,
	},
	RoleSigner: {
		PermViewWallet, PermInitiateRequest, PermBroadcast,
		// Signer CANNOT: PermManageSigners, PermManageWallet.
		// Cancellation is allowed for the request's own initiator only.
		// Approving and rejecting is governed by the request's approval rows.
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// IsCustodyOperation reports whether the permission changes who controls
// the wallet (owner-only).
func IsCustodyOperation(permission string) bool {
	return permission == PermManageSigners || permission == PermManageWallet
}
