// Package bridge connects Matrix rooms to a clonepilot relay.
//
// Each text message from a room member is relayed as the contact
// "matrix:<room id>:<user id>", so every member gets their own agent
// conversation per room. The agent's message activities are posted back with
// their Markdown rendered to HTML. Events the homeserver redelivers are
// dropped by event id.
//
// Configuration is TOML; see Sample.
package bridge
