package net

// RPCResponse carries the answer to one sync command, or the error that
// prevented it.
type RPCResponse struct {
	Response interface{}
	Error    error
}

// RPC is a sync command received by a transport, waiting for the node to
// answer it on RespChan.
type RPC struct {
	Command  interface{}
	RespChan chan<- RPCResponse
}

// Name returns the short name of the command: tree, fetch, push or unknown.
func (r *RPC) Name() string {
	switch r.Command.(type) {
	case *TreeRequest:
		return "tree"
	case *FetchRequest:
		return "fetch"
	case *PushRequest:
		return "push"
	default:
		return "unknown"
	}
}

// Respond is used to respond with a response, error or both.
func (r *RPC) Respond(resp interface{}, err error) {
	r.RespChan <- RPCResponse{resp, err}
}
