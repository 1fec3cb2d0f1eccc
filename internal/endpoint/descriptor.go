package endpoint

// Descriptor provides metadata about an adapter kind.
// Used by the CLI when listing supported sources.
type Descriptor struct {
	ID          string
	Family      string
	Title       string
	Vendor      string
	Description string
	DefaultPort int
	Driver      string
	Fields      []*FieldDescriptor
}

// FieldDescriptor defines a connection settings field.
type FieldDescriptor struct {
	Key       string
	Label     string
	ValueType string // "string", "integer", "boolean", "password"
	Required  bool
	Sensitive bool
}

// RelationalFields returns the field set shared by network SQL adapters.
func RelationalFields() []*FieldDescriptor {
	return []*FieldDescriptor{
		{Key: "host", Label: "Host", ValueType: "string", Required: true},
		{Key: "port", Label: "Port", ValueType: "integer", Required: true},
		{Key: "database", Label: "Database", ValueType: "string", Required: true},
		{Key: "user", Label: "User", ValueType: "string", Required: true},
		{Key: "password", Label: "Password", ValueType: "password", Required: true, Sensitive: true},
		{Key: "ssh_host", Label: "SSH Host", ValueType: "string"},
		{Key: "ssh_port", Label: "SSH Port", ValueType: "integer"},
		{Key: "ssh_user", Label: "SSH User", ValueType: "string"},
		{Key: "ssh_private_key", Label: "SSH Private Key", ValueType: "password", Sensitive: true},
	}
}
