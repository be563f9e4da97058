// Package sshwaittest provides in-memory test doubles for sshwait: a
// loopback Stream pair with scriptable readiness, and a scripted Engine
// whose operations can be made to would-block a configured number of times
// before completing.
//
// The Engine keeps an in-memory file store behind its SCP and SFTP
// handles, so upload/download round trips work end to end without a real
// server.
//
// Usage:
//
//	client, server := sshwaittest.NewStreamPair()
//	defer server.Close()
//
//	engine := sshwaittest.NewEngine()
//	engine.AddIdentity("id_ed25519")
//	engine.Block("handshake", 3)
//
//	sess, _ := sshwait.New(client, engine)
//	_ = sess.Handshake(ctx) // retries through 3 would-blocks
package sshwaittest
