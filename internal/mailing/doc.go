// Package mailing renders sequence emails and hands them to a sender.
//
// Rendering uses the Liquid template language with a strict pre-pass that
// rejects templates referencing variables the caller did not supply. Senders
// deliver through AWS SES, or only log when SES is not configured.
package mailing
