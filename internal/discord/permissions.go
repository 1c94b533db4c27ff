package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// PermissionChecker decides who may run privileged commands such as leave.
type PermissionChecker struct {
	adminRoleID string
}

// NewPermissionChecker creates a PermissionChecker for adminRoleID.
func NewPermissionChecker(adminRoleID string) *PermissionChecker {
	return &PermissionChecker{adminRoleID: adminRoleID}
}

// IsAdmin reports whether member holds the admin role. Without a configured
// role everyone is an admin. A nil member (direct messages) never is.
func (p *PermissionChecker) IsAdmin(member *discordgo.Member) bool {
	if p.adminRoleID == "" {
		return true
	}
	if member == nil {
		return false
	}
	return slices.Contains(member.Roles, p.adminRoleID)
}
