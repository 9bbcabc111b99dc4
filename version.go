package acp

// APIVersion is the only API-Version header value the handlers accept.
const APIVersion = "2025-09-29"
