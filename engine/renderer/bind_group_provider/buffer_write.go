package bind_group_provider

// BufferWrite is one staged upload destined for a provider's buffer, e.g. a
// frame's joint matrices headed for the joint bind group. The renderer
// flushes batches of these to the queue in one pass.
type BufferWrite struct {
	// Provider owns the buffer being written.
	Provider BindGroupProvider

	// Binding selects the buffer within the provider.
	Binding int

	// Offset is the destination byte offset within the buffer.
	Offset uint64

	// Data is the raw bytes to upload.
	Data []byte
}
