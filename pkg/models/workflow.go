package models

// Workflow is the node/edge graph the coordination layer dispatches. It is
// owned by the management API; this layer only reads it.
type Workflow struct {
	ID          string         `json:"id"`
	WorkspaceID int64          `json:"workspace_id"`
	Name        string         `json:"name"`
	Active      bool           `json:"active"`
	Nodes       []Node         `json:"nodes"`
	Edges       []Edge         `json:"edges"`
	Settings    map[string]any `json:"settings,omitempty"`
}

// Node is one typed node instance in the workflow graph.
type Node struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Name     string         `json:"name,omitempty"`
	Position Position       `json:"position"`
	Data     map[string]any `json:"data,omitempty"`
}

// Position is the editor placement of a node; carried through untouched.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge connects two nodes in the workflow graph.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// ScheduleExpression returns the cron expression from workflow settings, or
// empty when the workflow is not schedule-triggered.
func (w *Workflow) ScheduleExpression() string {
	expr, _ := w.Settings["schedule"].(string)

	return expr
}

// CredentialIDs returns the distinct credential ids referenced by node
// configs. Only these are ever decrypted for dispatch; the workspace's full
// credential set never leaves the store.
func (w *Workflow) CredentialIDs() []string {
	seen := make(map[string]struct{})
	ids := make([]string, 0)

	for _, node := range w.Nodes {
		for _, key := range []string{"credentialId", "credential_id"} {
			if id, ok := node.Data[key].(string); ok && id != "" {
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
			}
		}
	}

	return ids
}

// Credential is an encrypted secret owned by the credential store. Data stays
// ciphertext until dispatch resolves it through the decryptor.
type Credential struct {
	ID          string `json:"id"`
	WorkspaceID int64  `json:"workspace_id"`
	Type        string `json:"type"`
	Data        string `json:"-"`
}

// Variable is a workspace-scoped key/value; secret values are stored
// encrypted and decrypted just-in-time for dispatch.
type Variable struct {
	WorkspaceID int64  `json:"workspace_id"`
	Key         string `json:"key"`
	Value       string `json:"value"`
	IsSecret    bool   `json:"is_secret"`
}
