package chatops

import (
	"fmt"
	"strings"
)

// EncodeButtonValue builds the value carried by an approval prompt's
// Approve/Approve All/Deny buttons, per spec §4.6/§6.
func EncodeButtonValue(jobID, toolUseID, toolName string) string {
	return strings.Join([]string{jobID, toolUseID, toolName}, "|")
}

// DecodeButtonValue parses a button value back into its three fields.
func DecodeButtonValue(value string) (jobID, toolUseID, toolName string, err error) {
	parts := strings.SplitN(value, "|", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("malformed button value %q", value)
	}
	return parts[0], parts[1], parts[2], nil
}
