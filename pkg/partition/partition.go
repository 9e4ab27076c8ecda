// Package partition assigns workspaces to job channel partitions.
package partition

// DefaultCount is the number of job channel partitions used when no explicit
// partition count is configured.
const DefaultCount = 16

// Route returns the partition for a workspace as workspaceID mod count.
// Workspaces get soft affinity to one channel so a noisy workspace cannot
// spread across every partition; collisions between workspaces are expected.
func Route(workspaceID int64, count int) int {
	if count <= 0 {
		count = DefaultCount
	}

	return int(workspaceID % int64(count))
}
