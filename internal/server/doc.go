// Package server implements the caravan webhook receiver.
//
// Routes:
//   - POST /in/{application}: GitHub push webhook. Pushes to the configured
//     branch start a release in the background (202 Accepted); a push while
//     the application is already deploying gets 429.
//   - GET /status/{application}: active, latest and recent releases
//   - GET /status: active release of every application
//   - GET /health: served applications
//
// Requests are checked for:
//   - HMAC-SHA256 signature (X-Hub-Signature-256, webhook.secret)
//   - Content-Type application/json
//   - Payload size (1MB max)
//   - Per-IP rate limits, global and per webhook
package server
