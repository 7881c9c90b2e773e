// Package web is the dashboard process: Discord login, guild selection and welcome message settings.
//
// The web process never holds a gateway cache. Which guilds a user may manage, and which channels a
// guild has, are asked to the bot process over the rpc bridge on every request.
package web
