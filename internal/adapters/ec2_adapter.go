// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package adapters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	smithy "github.com/aws/smithy-go"

	"aegis.dev/aegis/internal/logging"
	"aegis.dev/aegis/internal/record"
)

// ec2Client is the subset of *ec2.Client this adapter needs, narrowed
// so tests can substitute a fake.
type ec2Client interface {
	AuthorizeSecurityGroupIngress(ctx context.Context, in *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	RevokeSecurityGroupIngress(ctx context.Context, in *ec2.RevokeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.RevokeSecurityGroupIngressOutput, error)
	DescribeSecurityGroups(ctx context.Context, in *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
}

// CloudSecurityGroupAdapter translates a UniversalRule into AWS EC2
// security-group ingress operations. A rule spanning multiple
// protocols (e.g. a quarantine blocking both TCP and UDP) yields one
// SG rule per protocol, joined into one compound
// PerRuleID.
type CloudSecurityGroupAdapter struct {
	client          ec2Client
	securityGroupID string
	logger          *logging.Logger
	idempotency     *idempotencyCache
}

// NewCloudSecurityGroupAdapter constructs a CloudSecurityGroupAdapter
// bound to one security group.
func NewCloudSecurityGroupAdapter(client *ec2.Client, securityGroupID string, logger *logging.Logger) *CloudSecurityGroupAdapter {
	if logger == nil {
		logger = logging.Default().WithComponent("adapters.ec2")
	}
	return &CloudSecurityGroupAdapter{
		client:          client,
		securityGroupID: securityGroupID,
		logger:          logger,
		idempotency:     newIdempotencyCache(),
	}
}

func (a *CloudSecurityGroupAdapter) Name() string { return "cloud_ec2" }

// protocolsFor returns the EC2 IP protocol strings this rule's Match
// covers: an explicit protocol, or both tcp and udp when unspecified
// (quarantine actions commonly block both).
func protocolsFor(m record.Match) []string {
	if m.Protocol != "" {
		return []string{strings.ToLower(m.Protocol)}
	}
	return []string{"tcp", "udp"}
}

// Apply authorizes one ingress rule per protocol in rule.Match,
// joining their identifiers into one compound PerRuleID
// ("tcp:<cidr>/<port>,udp:<cidr>/<port>").
func (a *CloudSecurityGroupAdapter) Apply(ctx context.Context, rule record.UniversalRule) (PerRuleID, error) {
	if id, ok := a.idempotency.get(rule.RuleID); ok {
		return id, nil
	}
	if rule.Action.Family() != "deny" && rule.Action.Family() != "quarantine" {
		// EC2 security groups are deny-list-by-absence; only blocking
		// actions have a native representation here. Anything else is a
		// configuration error, not a retryable one.
		return "", NewAdapterError(OutcomePermanent, fmt.Errorf("cloud_ec2: unsupported action family %q", rule.Action.Family()))
	}

	cidr := rule.Match.SrcCIDR
	if cidr == "" {
		cidr = "0.0.0.0/0"
	}
	fromPort, toPort := portRange(rule.Match.DstPorts)

	var parts []string
	for _, proto := range protocolsFor(rule.Match) {
		perm := types.IpPermission{
			IpProtocol: aws.String(proto),
			FromPort:   aws.Int32(fromPort),
			ToPort:     aws.Int32(toPort),
			IpRanges: []types.IpRange{
				{CidrIp: aws.String(cidr), Description: aws.String(ruleComment(rule.RuleID))},
			},
		}
		_, err := a.client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       aws.String(a.securityGroupID),
			IpPermissions: []types.IpPermission{perm},
		})
		if err != nil {
			if isDuplicatePermission(err) {
				// Idempotent retry of a rule AWS already has: treat as
				// success rather than surfacing a permanent failure.
				parts = append(parts, proto+":"+cidr+"/"+strconv.Itoa(int(fromPort)))
				continue
			}
			return "", NewAdapterError(classifyEC2Error(err), err)
		}
		parts = append(parts, proto+":"+cidr+"/"+strconv.Itoa(int(fromPort)))
	}

	id := PerRuleID(strings.Join(parts, ","))
	a.idempotency.put(rule.RuleID, id)
	return id, nil
}

// Remove revokes every protocol-specific ingress permission encoded in
// id's compound identifier.
func (a *CloudSecurityGroupAdapter) Remove(ctx context.Context, id PerRuleID) error {
	for _, entry := range strings.Split(string(id), ",") {
		proto, rest, ok := strings.Cut(entry, ":")
		if !ok {
			continue
		}
		cidr, portStr, ok := strings.Cut(rest, "/")
		if !ok {
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			continue
		}
		_, err = a.client.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
			GroupId: aws.String(a.securityGroupID),
			IpPermissions: []types.IpPermission{{
				IpProtocol: aws.String(proto),
				FromPort:   aws.Int32(int32(port)),
				ToPort:     aws.Int32(int32(port)),
				IpRanges:   []types.IpRange{{CidrIp: aws.String(cidr)}},
			}},
		})
		if err != nil {
			return NewAdapterError(classifyEC2Error(err), err)
		}
	}
	return nil
}

// Query reports whether id's security group still carries a matching
// ingress permission.
func (a *CloudSecurityGroupAdapter) Query(ctx context.Context, id PerRuleID) (AdapterState, error) {
	out, err := a.client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: []string{a.securityGroupID},
	})
	if err != nil {
		return AdapterState{}, NewAdapterError(classifyEC2Error(err), err)
	}
	if len(out.SecurityGroups) == 0 {
		return AdapterState{}, ErrNotFound
	}
	want := make(map[string]bool)
	for _, part := range strings.Split(string(id), ",") {
		want[part] = true
	}
	for _, perm := range out.SecurityGroups[0].IpPermissions {
		if perm.IpProtocol == nil || perm.FromPort == nil {
			continue
		}
		for _, r := range perm.IpRanges {
			if r.Description == nil || r.CidrIp == nil || !strings.HasPrefix(*r.Description, "aegis-rule:") {
				continue
			}
			key := *perm.IpProtocol + ":" + *r.CidrIp + "/" + strconv.Itoa(int(*perm.FromPort))
			if want[key] {
				return AdapterState{PerRuleID: id, Active: true}, nil
			}
		}
	}
	return AdapterState{}, ErrNotFound
}

// List enumerates every rule_id this adapter's security group has a
// live ingress permission for, recovered from the permission
// description tag.
func (a *CloudSecurityGroupAdapter) List(ctx context.Context) ([]PerRuleID, error) {
	out, err := a.client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: []string{a.securityGroupID},
	})
	if err != nil {
		return nil, NewAdapterError(classifyEC2Error(err), err)
	}
	if len(out.SecurityGroups) == 0 {
		return nil, nil
	}
	seen := map[string]bool{}
	var ids []PerRuleID
	for _, perm := range out.SecurityGroups[0].IpPermissions {
		for _, r := range perm.IpRanges {
			if r.Description == nil || !strings.HasPrefix(*r.Description, "aegis-rule:") {
				continue
			}
			ruleID := strings.TrimPrefix(*r.Description, "aegis-rule:")
			if !seen[ruleID] {
				seen[ruleID] = true
				ids = append(ids, PerRuleID(ruleID))
			}
		}
	}
	return ids, nil
}

func portRange(ports []uint16) (int32, int32) {
	if len(ports) == 0 {
		return 0, 65535
	}
	lo, hi := ports[0], ports[0]
	for _, p := range ports[1:] {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	return int32(lo), int32(hi)
}

func isDuplicatePermission(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "InvalidPermission.Duplicate"
	}
	return false
}

// classifyEC2Error buckets an AWS SDK error into the Transient/
// Permanent/Unreachable taxonomy from §4.A: throttling and 5xx are
// Transient, client errors (bad group id, malformed permission) are
// Permanent, and network-level failures are Unreachable.
func classifyEC2Error(err error) Outcome {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "RequestLimitExceeded", "Throttling", "InternalError":
			return OutcomeTransient
		case "InvalidGroupId.NotFound", "InvalidParameterValue", "InvalidPermission.Malformed":
			return OutcomePermanent
		}
		return OutcomeTransient
	}
	return OutcomeUnreachable
}
