// Package connection implements the realtime client for the governance
// console's /ws/chat channel.
//
// The Manager:
//   - Owns at most one WebSocket connection to the console
//   - Gates connects on the session store's authentication state
//   - Keeps the connection alive with a JSON ping/pong heartbeat
//   - Reconnects with capped exponential backoff on transient failures
//   - Treats the console's auth-failure close code as terminal (forces logout)
package connection
