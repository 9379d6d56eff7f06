// Package auth provides request authentication for unconv-server.
//
// # Authentication Methods
//
//   - Sensor API tokens: sensor systems post readings to
//     POST /EnvironmentalReading?access_token=UNCONV... . Tokens are
//     TokenPrefix plus a random base62 body, TokenLength characters in total.
//     Only bcrypt(token+salt) and a lower-cased lookup suffix are stored.
//
//   - JWT Tokens: users authenticate every other request with
//     Authorization: Bearer <jwt>. Tokens are HS256 with fixed issuer and
//     subject claims and carry the username.
//
// # Strategy Order
//
// Authenticator tries strategies in a fixed order and the first one whose
// Applies returns true decides the request:
//
//  1. SensorTokenStrategy (POST /EnvironmentalReading with the token parameter)
//  2. BearerStrategy (Authorization header present, unless skipped by config)
//
// When neither applies the request continues anonymously and RequireAuth
// guards endpoints that need an identity.
//
// # Failure Responses
//
//   - Sensor token failures: 401 application/json {"message","token","timestamp"}
//   - Bearer failures: 401 text/plain "Unauthorized"
//   - Anything else: 400 application/problem+json titled "Internal Server Error"
//
// # Validation
//
// Validator.ValidateTokenAndRetrieveUser checks, in order: token length,
// suffix lookup, hash comparison, expiry. Each failure is a *SensorTokenError
// whose Kind is one of ErrInvalidTokenLength, ErrUnknownAuthToken,
// ErrMalformedAuthToken or ErrExpiredAuthToken. A suffix match is only an
// index hit; the hash comparison decides authentication.
//
// # Context Propagation
//
//	authCtx := auth.FromContext(r.Context())
//	if authCtx == nil {
//	    // anonymous
//	}
package auth
