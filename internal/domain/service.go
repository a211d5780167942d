package domain

import "time"

// ServiceType enumerates the workload kinds the platform can run.
type ServiceType string

const (
	ServiceTypeDocker   ServiceType = "DOCKER"
	ServiceTypeStatic   ServiceType = "STATIC"
	ServiceTypePostgres ServiceType = "POSTGRES"
	ServiceTypeRedis    ServiceType = "REDIS"
	ServiceTypeMySQL    ServiceType = "MYSQL"
	ServiceTypeCompose  ServiceType = "COMPOSE"
)

// Valid reports whether t is a known service type.
func (t ServiceType) Valid() bool {
	switch t {
	case ServiceTypeDocker, ServiceTypeStatic, ServiceTypePostgres, ServiceTypeRedis, ServiceTypeMySQL, ServiceTypeCompose:
		return true
	}
	return false
}

// Stateful reports whether the type owns a persistent data volume.
func (t ServiceType) Stateful() bool {
	return t == ServiceTypePostgres || t == ServiceTypeRedis || t == ServiceTypeMySQL
}

// DefaultPort returns the port a service of this type listens on unless overridden.
func (t ServiceType) DefaultPort() int {
	switch t {
	case ServiceTypeStatic:
		return 80
	case ServiceTypePostgres:
		return 5432
	case ServiceTypeRedis:
		return 6379
	case ServiceTypeMySQL:
		return 3306
	default:
		return 3000
	}
}

// DataMountPath is where the stateful volume is attached inside the container.
func (t ServiceType) DataMountPath() string {
	switch t {
	case ServiceTypePostgres:
		return "/var/lib/postgresql/data"
	case ServiceTypeRedis:
		return "/data"
	case ServiceTypeMySQL:
		return "/var/lib/mysql"
	}
	return ""
}

// Service is a user-declared deployable unit.
type Service struct {
	ID              string
	Name            string
	OwnerID         string
	RepoURL         *string
	Branch          string
	BuildCommand    *string
	StartCommand    *string
	Type            ServiceType
	Port            int
	EnvVars         map[string]string
	CustomDomain    *string
	StaticOutputDir *string
	IsPreview       bool
	PRNumber        *int
	Status          Status
	DeleteProtected bool
	DeletedAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Repo returns the repository URL or an empty string.
func (s *Service) Repo() string {
	if s.RepoURL == nil {
		return ""
	}
	return *s.RepoURL
}

// Deleted reports whether the service was soft-deleted.
func (s *Service) Deleted() bool {
	return s.DeletedAt != nil
}

// ComposeProject is the project name the container engine assigns to compose stacks of this service.
func (s *Service) ComposeProject() string {
	return s.Name
}

// SourceCredential stores an encrypted source-control token for an owner.
type SourceCredential struct {
	OwnerID        string
	Provider       string
	EncryptedToken []byte
	UpdatedAt      time.Time
}
