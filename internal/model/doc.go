// Package model defines the CRM data types shared by the REST client and the
// real-time event payloads.
//
// Conventions:
//   - IDs: opaque strings assigned by the backend
//   - Timestamps: time.Time, RFC 3339 on the wire
//   - Phone numbers: E.164 strings as stored by the WhatsApp integration
package model
