package chat

import (
	"encoding/json"
	"strings"
)

// ComposeSessionMessage builds the single user-message string sent to a
// provider session. The pieces concatenate in a fixed order so behavior
// stays reproducible: instructions, file preamble, message, structured
// context, file-reference footer.
func ComposeSessionMessage(instructions, message string, context map[string]any, filename string) string {
	var sb strings.Builder

	if instr := strings.TrimSpace(instructions); instr != "" {
		sb.WriteString(instr)
		sb.WriteString("\n\n")
	}
	if filename != "" {
		sb.WriteString("The user attached the file \"")
		sb.WriteString(filename)
		sb.WriteString("\". Use the retrieval tool to consult it when answering.\n\n")
	}
	sb.WriteString(message)
	if len(context) > 0 {
		if encoded, err := marshalContext(context); err == nil {
			sb.WriteString("\n\nAdditional context:\n")
			sb.WriteString(encoded)
		}
	}
	if filename != "" {
		sb.WriteString("\n\n[attached file: ")
		sb.WriteString(filename)
		sb.WriteString("]")
	}
	return sb.String()
}

func marshalContext(context map[string]any) (string, error) {
	encoded, err := json.Marshal(context)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
