package core

// ConnID identifies one relay connection for its lifetime.
type ConnID string
