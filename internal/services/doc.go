// Package services implements the HTTP client pipeline and the typed irrigation backend API.
//
// # Pipeline
//
// Every request made through [Client.Do] passes through the same steps:
//   - attach the current credential from the [Authorizer], read at send time
//   - tag the request with an X-Request-ID
//   - on a 401 to a request that carried the session credential, call [Authorizer.Unauthorized] once and return the error
//   - normalize every other failure into an [*APIError]
//
// Requests sent with [WithBearer] use an explicit token and are not bound to the session.
// Login uses this to fetch the profile before the session exists.
//
// # Errors
//
// [*APIError] wraps one of:
//   - [shared.ErrUnauthorized] : the backend rejected the credential
//   - [shared.ErrAPIRequest] : any other non-2xx response, or an undecodable body
//   - [shared.ErrNetwork] : the request never produced a response
//
// The pipeline never retries. [MessageOf] extracts the server message for notices.
//
// # Endpoints
//
// [IrrigationService] maps each backend route to a typed method: auth, devices, sensor readings, pump control and logs, weather, and predictions.
package services
