// Package events implements the webhook event extraction and correlation
// engine at the heart of the bot.
//
// Kick delivers gifted-subscription webhooks whose payload is frequently an
// empty object: the gifter's identity only shows up moments later in a chat
// message from the platform's automated account. The Correlator holds such
// events in a pending table and matches them against incoming chat messages
// by sender, content pattern, and timing window (FIFO among in-window
// events). Payloads that do carry a gifter are resolved synchronously by the
// GifterParser's strategy chain, and follow/subscription payload variants are
// handled by the Registry's ordered extraction strategies.
//
// The Monitor observes every parse and correlation outcome and serves the
// diagnostics snapshot exposed at /diagnostics/webhooks.
package events
