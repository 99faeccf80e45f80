// Package chat routes incoming chat messages to the parts of the bot that
// care about them.
//
// Kick delivers chat as chat.message.sent webhook events, so there is no
// persistent socket to manage here: the HTTP webhook receiver decodes each
// message and hands it to a Dispatcher, which fans it out to the registered
// handlers: the gift correlator (watching for the platform's automated
// thank-you messages) and the command Router.
//
// The Router implements the bot's command table (!points, !uptime, !so) with
// per-command cooldowns, replying through the Kick chat API as the bot
// account.
package chat
