// Package security secures message channels by name.
//
// A Gatekeeper is registered as a channel.PostProcessor. When a channel is
// registered, the gatekeeper compares its name against the patterns of the
// interceptor's InvocationDefinitionSource and, if one matches the whole
// name, returns the channel wrapped in an interceptors proxy guarded by the
// security Interceptor. Other channels are returned unchanged.
//
// On every operation of a secured channel the Interceptor looks up the
// attributes for the channel and operation. Operations without attributes
// are public. Otherwise the caller's Principal (see WithPrincipal) is passed
// to an AccessDecisionManager:
//   - RoleDecisionManager: Grants when the principal holds a ROLE_ attribute
//   - OPADecisionManager: Evaluates a Rego rule against the invocation
//
// Rules can be loaded from a YAML policy file and kept current with a
// PolicyWatcher:
//
//	source, _ := security.NewDefinitionSource()
//	watcher, _ := security.NewPolicyWatcher("policy.yaml", source)
//	_ = watcher.Load()
//	_ = watcher.Start(ctx)
//
//	interceptor, _ := security.NewInterceptor(source, security.NewRoleDecisionManager())
//	gatekeeper, _ := security.NewGatekeeper(interceptor)
//	registry := channel.NewRegistry(channel.WithPostProcessors(gatekeeper))
package security
