// Package bot is the cache-holding side of the dashboard bridge.
//
// It answers get_guilds and get_channels requests from the live Discord gateway cache
// and posts welcome messages when members join.
package bot
