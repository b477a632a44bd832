package awx

import "context"

// DoRequest exports doRequest for testing purposes
func (c *Client) DoRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	return c.doRequest(ctx, method, path, body)
}

// ExtractJobID exports extractJobID for testing purposes
var ExtractJobID = extractJobID
