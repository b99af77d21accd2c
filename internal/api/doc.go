// Package api provides the CRM backend REST client.
//
// All endpoints are JSON over HTTP and authenticated with the bearer token
// held by the auth store:
//
//	POST  /auth/login                  credentials -> {token, user}
//	GET   /auth/me                     current user
//	GET   /leads                       paginated lead list
//	GET   /leads/{id}                  single lead
//	PATCH /leads/{id}/status           move a lead through the pipeline
//	GET   /messages/{leadId}           chat history for a lead
//	POST  /messages/send               send a WhatsApp message
//	GET   /tasks                       follow-up tasks
//	GET   /notifications               notification center
//	PATCH /notifications/{id}/read     mark a notification read
//	GET   /whatsapp/status             linked WhatsApp session
//
// A 401 from any authenticated request is an auth-invalidation signal: the
// error matches ErrUnauthorized and the registered unauthorized handler runs.
package api
