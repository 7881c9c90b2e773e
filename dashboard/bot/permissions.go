package bot

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"

	"github.com/polaris-dashboard/polaris"
	"github.com/polaris-dashboard/polaris/dashboard/protocol"
)

// guildPermissions computes the guild-level permissions of a member:
// the @everyone role (its id is the guild id) combined with the member's roles.
// The owner and administrators have all permissions.
//
// Channel overwrites are not applied, they never grant or deny guild-wide capabilities like Manage Server.
func guildPermissions(guildID, ownerID string, roles []*discordgo.Role, userID string, memberRoles []string) int64 {
	if ownerID != "" && ownerID == userID {
		return discordgo.PermissionAll
	}

	memberRoleIDs := make(map[string]struct{}, len(memberRoles)+1)
	memberRoleIDs[guildID] = struct{}{}
	for _, id := range memberRoles {
		memberRoleIDs[id] = struct{}{}
	}

	var perms int64
	for _, role := range roles {
		if _, ok := memberRoleIDs[role.ID]; ok {
			perms |= role.Permissions
		}
	}

	if perms&discordgo.PermissionAdministrator != 0 {
		return discordgo.PermissionAll
	}

	return perms
}

// PermissionResolver answers get_guilds: which of the user's guilds can the user manage.
//
// This is the authorization boundary of the dashboard, the result is derived from the live cache
// on every request and never from what the web client claims.
type PermissionResolver struct {
	cache  Cache
	logger polaris.LoggerAdapter
}

func NewPermissionResolver(cache Cache, logger polaris.LoggerAdapter) PermissionResolver {
	if logger == nil {
		logger = polaris.NopLogger{}
	}

	return PermissionResolver{cache: cache, logger: logger}
}

// ManageableGuilds keeps the guilds of req where the bot is present, the user is a member
// and the user has the Manage Server permission. Input order is preserved, duplicates are dropped.
func (r PermissionResolver) ManageableGuilds(ctx context.Context, req protocol.GetGuildsRequest) (protocol.GetGuildsResponse, error) {
	guilds := make([]int64, 0, len(req.Guilds))
	seen := make(map[int64]struct{}, len(req.Guilds))

	for _, guildID := range req.Guilds {
		if _, ok := seen[guildID]; ok {
			continue
		}
		seen[guildID] = struct{}{}

		perms, err := r.cache.MemberPermissions(guildID, req.User)
		if errors.Is(err, ErrCacheMiss) {
			r.logger.Trace("Guild excluded", polaris.LogFields{"guild_id": guildID, "user_id": req.User, "reason": err})
			continue
		}
		if err != nil {
			return protocol.GetGuildsResponse{}, err
		}

		if perms&discordgo.PermissionManageGuild == 0 {
			continue
		}

		guilds = append(guilds, guildID)
	}

	return protocol.GetGuildsResponse{Guilds: guilds}, nil
}
