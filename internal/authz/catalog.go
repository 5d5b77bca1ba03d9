package authz

import (
	"fmt"
	"sort"
	"strings"
)

// Permission keys seeded into every deployment.
const (
	PermViewUsers   = "view_users"
	PermCreateUsers = "create_users"
	PermEditUsers   = "edit_users"
	PermDeleteUsers = "delete_users"

	PermViewOrganisations  = "view_organisations"
	PermManageOrganisation = "manage_organisation"
	PermEditOrgSettings    = "edit_organisation_settings"

	PermViewReports   = "view_reports"
	PermExportReports = "export_reports"
	PermViewAnalytics = "view_analytics"

	PermMakeCalls          = "make_calls"
	PermViewCalls          = "view_calls"
	PermManageCampaigns    = "manage_campaigns"
	PermViewCallRecordings = "view_call_recordings"

	PermViewContacts   = "view_contacts"
	PermCreateContacts = "create_contacts"
	PermEditContacts   = "edit_contacts"
	PermDeleteContacts = "delete_contacts"
	PermImportContacts = "import_contacts"

	PermManagePermissions  = "manage_permissions"
	PermManageAgents       = "manage_agents"
	PermViewSystemSettings = "view_system_settings"
	PermEditSystemSettings = "edit_system_settings"
	PermViewAuditLogs      = "view_audit_logs"
)

// BuiltinPermissions is the full capability catalog. System-reserved entries
// are exercisable by platform admins only.
var BuiltinPermissions = []Permission{
	{Key: PermViewUsers, Name: "View Users", Description: "Can view list of users and their details"},
	{Key: PermCreateUsers, Name: "Create Users", Description: "Can create new users in the system"},
	{Key: PermEditUsers, Name: "Edit Users", Description: "Can edit existing user details and roles"},
	{Key: PermDeleteUsers, Name: "Delete Users", Description: "Can delete users from the system"},

	{Key: PermViewOrganisations, Name: "View Organisations", Description: "Can view organisations list and details"},
	{Key: PermManageOrganisation, Name: "Manage Organisation", Description: "Can manage organisation settings and details"},
	{Key: PermEditOrgSettings, Name: "Edit Organisation Settings", Description: "Can modify organisation settings and configuration"},

	{Key: PermViewReports, Name: "View Reports", Description: "Can view reports and analytics"},
	{Key: PermExportReports, Name: "Export Reports", Description: "Can export reports to various formats"},
	{Key: PermViewAnalytics, Name: "View Analytics", Description: "Can access analytics dashboard"},

	{Key: PermMakeCalls, Name: "Make Calls", Description: "Can initiate AI calls"},
	{Key: PermViewCalls, Name: "View Calls", Description: "Can view call history and details"},
	{Key: PermManageCampaigns, Name: "Manage Campaigns", Description: "Can create and manage call campaigns"},
	{Key: PermViewCallRecordings, Name: "View Call Recordings", Description: "Can access call recordings and transcripts"},

	{Key: PermViewContacts, Name: "View Contacts", Description: "Can view contacts list"},
	{Key: PermCreateContacts, Name: "Create Contacts", Description: "Can add new contacts"},
	{Key: PermEditContacts, Name: "Edit Contacts", Description: "Can edit existing contacts"},
	{Key: PermDeleteContacts, Name: "Delete Contacts", Description: "Can delete contacts"},
	{Key: PermImportContacts, Name: "Import Contacts", Description: "Can import contacts from CSV/file"},

	{Key: PermManagePermissions, Name: "Manage Permissions", Description: "Can assign and revoke user permissions", SystemReserved: true},
	{Key: PermManageAgents, Name: "Manage Agents", Description: "Can assign and revoke agent designations", SystemReserved: true},
	{Key: PermViewSystemSettings, Name: "View System Settings", Description: "Can view system configuration", SystemReserved: true},
	{Key: PermEditSystemSettings, Name: "Edit System Settings", Description: "Can modify system configuration", SystemReserved: true},
	{Key: PermViewAuditLogs, Name: "View Audit Logs", Description: "Can view system audit logs and activity", SystemReserved: true},
}

// Catalog is an immutable, key-ordered registry of permissions.
type Catalog struct {
	byKey   map[string]Permission
	ordered []Permission
}

// NewCatalog builds a catalog from the given permissions. Duplicate or empty
// keys are rejected.
func NewCatalog(perms []Permission) (*Catalog, error) {
	byKey := make(map[string]Permission, len(perms))
	ordered := make([]Permission, 0, len(perms))
	for _, p := range perms {
		key := strings.TrimSpace(p.Key)
		if key == "" {
			return nil, fmt.Errorf("%w: permission key is required", ErrInvalidInput)
		}
		if _, ok := byKey[key]; ok {
			return nil, fmt.Errorf("%w: duplicate permission key %s", ErrInvalidInput, key)
		}
		p.Key = key
		byKey[key] = p
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Key < ordered[j].Key })
	return &Catalog{byKey: byKey, ordered: ordered}, nil
}

// DefaultCatalog returns the builtin catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(BuiltinPermissions)
	if err != nil {
		panic(err) // builtin data, validated by tests
	}
	return c
}

// Lookup returns the permission for key.
func (c *Catalog) Lookup(key string) (Permission, error) {
	p, ok := c.byKey[key]
	if !ok {
		return Permission{}, fmt.Errorf("%w: permission %s", ErrNotFound, key)
	}
	return p, nil
}

// All returns every permission ordered by key.
func (c *Catalog) All() []Permission {
	out := make([]Permission, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// IsSystemReserved reports whether key names a reserved permission. Unknown
// keys are not reserved; Lookup is the place to catch those.
func (c *Catalog) IsSystemReserved(key string) bool {
	p, ok := c.byKey[key]
	return ok && p.SystemReserved
}
