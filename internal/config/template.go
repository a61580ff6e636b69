package config

const defaultTemplate = `server:
  addr: ":8080"
  base_path: /v1
  jwt_secret: ""
  dev_auth: false

store:
  driver: sqlite
  dynamodb:
    region: us-east-1
    endpoint: ""
    table: quotations
    events_table: quotation_events

logging:
  level: info
  development: false

approval:
  deadlines:
    low: 168h
    medium: 72h
    high: 24h
    urgent: 4h
  sweep_interval: 15m

notifications:
  timeout: 5s
  webhook:
    url: ""
    secret: ""

workflow:
  transitions:
    - {from: DRAFT, to: PENDING_REVIEW, roles: [USER, SALES_REP, MANAGER, ADMIN, SUPER_ADMIN]}
    - {from: DRAFT, to: PENDING_APPROVAL, roles: [SALES_REP, MANAGER, ADMIN, SUPER_ADMIN]}
    - {from: DRAFT, to: CANCELLED, roles: [USER, SALES_REP, MANAGER, ADMIN, SUPER_ADMIN], condition: canBeCancelled, action: stampCancelled}

    - {from: PENDING_REVIEW, to: DRAFT, roles: [USER, SALES_REP, MANAGER, ADMIN, SUPER_ADMIN]}
    - {from: PENDING_REVIEW, to: PENDING_APPROVAL, roles: [SALES_REP, MANAGER, ADMIN, SUPER_ADMIN]}
    - {from: PENDING_REVIEW, to: APPROVED, roles: [MANAGER, ADMIN, SUPER_ADMIN], approval_level: MANAGER, action: stampApproved}
    - {from: PENDING_REVIEW, to: REJECTED, roles: [MANAGER, ADMIN, SUPER_ADMIN], action: stampRejected}
    - {from: PENDING_REVIEW, to: CANCELLED, roles: [SALES_REP, MANAGER, ADMIN, SUPER_ADMIN], condition: canBeCancelled, action: stampCancelled}

    - {from: PENDING_APPROVAL, to: APPROVED, roles: [MANAGER, ADMIN, SUPER_ADMIN], approval_level: MANAGER, action: stampApproved}
    - {from: PENDING_APPROVAL, to: REJECTED, roles: [MANAGER, ADMIN, SUPER_ADMIN], action: stampRejected}
    - {from: PENDING_APPROVAL, to: DRAFT, roles: [SALES_REP, MANAGER, ADMIN, SUPER_ADMIN]}
    - {from: PENDING_APPROVAL, to: CANCELLED, roles: [MANAGER, ADMIN, SUPER_ADMIN], condition: canBeCancelled, action: stampCancelled}

    - {from: APPROVED, to: ACTIVE, roles: [SALES_REP, MANAGER, ADMIN, SUPER_ADMIN], condition: isWithinValidityPeriod}
    - {from: APPROVED, to: CANCELLED, roles: [MANAGER, ADMIN, SUPER_ADMIN], condition: canBeCancelled, action: stampCancelled}

    - {from: ACTIVE, to: SENT, roles: [SALES_REP, MANAGER, ADMIN, SUPER_ADMIN], condition: isWithinValidityPeriod, action: stampSent}
    - {from: ACTIVE, to: EXPIRED, roles: [SALES_REP, MANAGER, ADMIN, SUPER_ADMIN], action: stampExpired}
    - {from: ACTIVE, to: CANCELLED, roles: [MANAGER, ADMIN, SUPER_ADMIN], condition: canBeCancelled, action: stampCancelled}

    - {from: SENT, to: ACCEPTED, roles: [CLIENT, SALES_REP, MANAGER, ADMIN, SUPER_ADMIN], condition: isWithinValidityPeriod, action: stampAccepted}
    - {from: SENT, to: DECLINED, roles: [CLIENT, SALES_REP, MANAGER, ADMIN, SUPER_ADMIN], action: stampDeclined}
    - {from: SENT, to: EXPIRED, roles: [SALES_REP, MANAGER, ADMIN, SUPER_ADMIN], action: stampExpired}
    - {from: SENT, to: CANCELLED, roles: [MANAGER, ADMIN, SUPER_ADMIN], condition: canBeCancelled, action: stampCancelled}

    - {from: ACCEPTED, to: COMPLETED, roles: [SALES_REP, MANAGER, ADMIN, SUPER_ADMIN], condition: isProjectCompleted, action: stampCompleted}

    - {from: COMPLETED, to: ARCHIVED, roles: [ADMIN, SUPER_ADMIN], condition: canBeArchived, action: stampArchived}

  rules:
    DRAFT:
      allowed: [PENDING_REVIEW, PENDING_APPROVAL, CANCELLED]
      auto_actions: [clearPendingApproval]
    PENDING_REVIEW:
      allowed: [DRAFT, PENDING_APPROVAL, APPROVED, REJECTED, CANCELLED]
      required_fields: [client_id, items]
    PENDING_APPROVAL:
      allowed: [APPROVED, REJECTED, DRAFT, CANCELLED]
      required_fields: [client_id, items]
    APPROVED:
      allowed: [ACTIVE, CANCELLED]
      required_fields: [valid_until]
      auto_actions: [clearPendingApproval]
    REJECTED:
      allowed: []
      auto_actions: [clearPendingApproval]
    ACTIVE:
      allowed: [SENT, EXPIRED, CANCELLED]
      required_fields: [valid_until]
      auto_actions: [ensureValidFrom]
    SENT:
      allowed: [ACCEPTED, DECLINED, EXPIRED, CANCELLED]
    ACCEPTED:
      allowed: [COMPLETED]
    DECLINED:
      allowed: []
    EXPIRED:
      allowed: []
    COMPLETED:
      allowed: [ARCHIVED]
    CANCELLED:
      allowed: []
      auto_actions: [clearPendingApproval]
    ARCHIVED:
      allowed: []
`
