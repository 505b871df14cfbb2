// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing session configurations and events, and to
// drain event subscriptions. They are not intended for production usage.
package testutil
