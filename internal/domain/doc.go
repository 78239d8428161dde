// Package domain contains the core business concepts for the pdfapi service.
// Keep this package free of transport (HTTP) and infrastructure (Postgres/Redis/S3/Chrome) concerns.
package domain
