package transport

import "io"

// UploadProgress reports bytes handed to the connection. TotalBytes is -1 when
// unknown.
type UploadProgress struct {
	SentBytes  int64
	TotalBytes int64
}

// DownloadProgress reports bytes received so far. TotalBytes is -1 when the
// response carried no content length.
type DownloadProgress struct {
	ReceivedBytes int64
	TotalBytes    int64
}

type countingReader struct {
	r      io.Reader
	n      int64
	total  int64
	report func(n, total int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += int64(n)
		if c.report != nil {
			c.report(c.n, c.total)
		}
	}
	return n, err
}
