package htypes

// Handle is an opaque kernel object reference. A Handle is owned by
// exactly one holder at a time; ownership is released through the
// kernel's close-handle primitive.
type Handle uint32

// InvalidHandle is the reserved zero handle value.
const InvalidHandle Handle = 0
