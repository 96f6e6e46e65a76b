// Package api implements the HTTP surface: the generation endpoint, request
// validation, rate-limit enforcement at ingress, client identity extraction,
// and the server-sent-events adapter that carries stream events to clients.
package api
