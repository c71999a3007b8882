// Package stack derives the identifiers under which stacks are managed.
package stack

import (
	"fmt"
	"strings"
)

// Name joins the deployment context into the stack identifier used as the
// idempotency key by the deploy tool. Identical inputs always yield the
// identical identifier.
func Name(appName, deploymentName, deploymentStage, component, resourceID string) (string, error) {
	parts := []string{appName, deploymentName, deploymentStage, component, resourceID}
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
		if parts[i] == "" {
			return "", fmt.Errorf("stack name part %d is empty", i)
		}
	}
	return strings.Join(parts, "-"), nil
}
