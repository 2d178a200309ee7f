package httpapi

// maxBodyBytes controls the maximum allowed request body size for uploads.
// Default is 32 MiB, comfortably above the largest in-budget input image.
var maxBodyBytes int64 = 32 << 20

// multipartMemoryBytes is the in-memory threshold before multipart parts
// spool to disk. Spooled parts are removed before the handler returns.
const multipartMemoryBytes = 8 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 32 << 20
		return
	}
	maxBodyBytes = n
}
