package rpc

import (
	"context"
	"encoding/json"
	"sync"
)

// SchemaProbe asks the backend once whether the wrapper procedures are
// generally deployed. The answer is assumed stable for the session.
type SchemaProbe struct {
	backend Backend

	once     sync.Once
	deployed bool
}

func NewSchemaProbe(backend Backend) *SchemaProbe {
	return &SchemaProbe{backend: backend}
}

func (p *SchemaProbe) Deployed(ctx context.Context) bool {
	p.once.Do(func() {
		result, err := p.backend.Invoke(ctx, "wrapperDeployed", nil)
		if err != nil {
			return
		}
		var decoded struct {
			Deployed bool `json:"deployed"`
		}
		if json.Unmarshal(result, &decoded) == nil {
			p.deployed = decoded.Deployed
		}
	})
	return p.deployed
}
