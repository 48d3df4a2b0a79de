// Package teamsevent defines the data model shared by the card builder,
// webhook sender, and event aggregator: event type, priority,
// stakeholder group, and the Teams event/notification/audit record value
// types.
package teamsevent

import "time"

// Priority mirrors TeamsPriority.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
	PriorityInfo     Priority = "info"
)

// EventType is the literal event taxonomy of models.py's EventType enum.
type EventType string

const (
	VaultSealDetected           EventType = "vault.seal.detected"
	VaultUnsealFailed           EventType = "vault.unseal.failed"
	VaultAuditDisabled          EventType = "vault.audit.disabled"
	VaultTokenRenewalFailed     EventType = "vault.token.renewal.failed"
	VaultSecretRotationComplete EventType = "vault.secret.rotation.complete"
	VaultCertificateExpiring    EventType = "vault.certificate.expiring"

	CeleryTaskFailed    EventType = "celery.task.failed"
	CeleryTaskFailure   EventType = "celery.task.failure"
	CeleryTaskRetry     EventType = "celery.task.retry"
	CeleryTaskTimeout   EventType = "celery.task.timeout"
	CeleryTaskDLQ       EventType = "celery.task.dlq"
	CeleryDLQThreshold  EventType = "celery.dlq.threshold"
	CeleryWorkerOffline EventType = "celery.worker.offline"
	CeleryQueueBacklog  EventType = "celery.queue.backlog"

	NPHIESEligibilitySuccess   EventType = "nphies.eligibility.success"
	NPHIESEligibilityDenied    EventType = "nphies.eligibility.denied"
	NPHIESEligibilityFailed    EventType = "nphies.eligibility.failed"
	NPHIESClaimSubmitted       EventType = "nphies.claim.submitted"
	NPHIESClaimApproved        EventType = "nphies.claim.approved"
	NPHIESClaimRejected        EventType = "nphies.claim.rejected"
	NPHIESAPIError             EventType = "nphies.api.error"
	NPHIESCertificateInvalid   EventType = "nphies.certificate.invalid"
	NPHIESJWTError             EventType = "nphies.jwt.error"
	NPHIESJWTExpired           EventType = "nphies.jwt.expired"

	FollowUpBatchStatus EventType = "followup.batch.status"

	SystemRabbitMQNodeDown          EventType = "system.rabbitmq.node_down"
	SystemPostgresReplicationLag    EventType = "system.postgres.replication_lag"
	RabbitMQNodeDown                EventType = "rabbitmq.node.down"
	RedisReplicaLagging             EventType = "redis.replica.lagging"
	PostgresConnectionExhausted     EventType = "postgres.connection.exhausted"
	KubernetesPodCrashloop          EventType = "kubernetes.pod.crashloop"
	PrometheusAlertFiring           EventType = "prometheus.alert.firing"
	BackupFailed                    EventType = "backup.failed"
)

// StakeholderGroup mirrors models.py's StakeholderGroup enum.
type StakeholderGroup string

const (
	SecurityEng        StakeholderGroup = "security_eng"
	CloudOps           StakeholderGroup = "cloudops"
	RuntimeEng         StakeholderGroup = "runtime_eng"
	DevOps             StakeholderGroup = "devops"
	SRE                StakeholderGroup = "sre"
	Compliance         StakeholderGroup = "compliance"
	NPHIESIntegration  StakeholderGroup = "nphies_integration"
	PMO                StakeholderGroup = "pmo"
)

// FriendlyNames maps each stakeholder group to its display name, per
// card_builder.py's _format_stakeholders.
var FriendlyNames = map[StakeholderGroup]string{
	SecurityEng:       "Security Engineering",
	CloudOps:          "Cloud Operations",
	RuntimeEng:        "Runtime Engineering",
	DevOps:            "DevOps",
	SRE:               "SRE",
	Compliance:        "Compliance Office",
	NPHIESIntegration: "NPHIES Integration",
	PMO:               "PMO",
}

// Event is a Teams event value.
type Event struct {
	EventType     EventType
	CorrelationID string
	Timestamp     time.Time
	Priority      Priority
	Stakeholders  []StakeholderGroup
	Data          map[string]any
}

// Notification is a rendered, addressed Teams Notification.
type Notification struct {
	Event      Event
	WebhookURL string
	Card       map[string]any
}

// AuditRecord is a Notification Audit Record, extended with the
// acknowledge fields a Teams action-callback surface would update.
type AuditRecord struct {
	ID             string
	CorrelationID  string
	EventType      EventType
	Priority       Priority
	WebhookURL     string
	StatusCode     int
	Success        bool
	SentAt         time.Time
	Error          string
	AcknowledgedBy string
	AcknowledgedAt *time.Time
}
