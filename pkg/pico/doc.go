// Package pico provides Go bindings for the SVOX Pico text-to-speech engine.
//
// Pico runs entirely inside a memory arena supplied by the caller. Inside it
// lives a system context, resource files loaded into the context, voice
// definitions naming a set of resources, and engines that turn text into
// 16 kHz 16-bit mono PCM. The native API does not check the order in which
// these objects are created or destroyed; getting it wrong corrupts native
// memory. This package makes the order structural.
//
// # Architecture
//
// The package exposes four core types, each holding a reference to the one
// it depends on:
//
//   - [System]: the arena and the native context (root of the graph)
//   - [Resource]: a loaded text-analysis or speech-generation file
//   - [Voice]: a named set of resources
//   - [Engine]: a synthesis session created from a voice
//
// System, Resource and Voice are reference counted. Closing a handle only
// drops that reference: a Resource keeps its System alive, a Voice keeps its
// System and every Resource added to it alive, and an Engine keeps its Voice
// alive. Native objects are torn down when the last reference goes, in
// dependency order, regardless of the order the caller closes them in.
//
// Usage flow:
//
//	sys, _ := pico.Initialize(4 << 20)
//	defer sys.Close()
//
//	ta, _ := sys.LoadResourceKind("lang/en-US_ta.bin", pico.KindTextAnalysis)
//	defer ta.Close()
//	sg, _ := sys.LoadResourceKind("lang/en-US_lh0_sg.bin", pico.KindSpeechGeneration)
//	defer sg.Close()
//
//	voice, _ := sys.CreateVoice("en-US")
//	defer voice.Close()
//	voice.AddResource(ta)
//	voice.AddResource(sg)
//
//	engine, _ := voice.NewEngine()
//	defer engine.Close()
//
//	samples, _ := engine.Speak(ctx, "1, 2, 3, Hello!")
//
// # Native Backend
//
// All native calls go through a [Backend]. The cgo implementation lives in
// package picoapi and registers itself when imported; package picotest
// provides an in-process fake for tests.
//
// # Errors
//
// Every failed native call returns an [*Error] carrying the status code and
// the message the engine gives for it. Compare codes with errors.Is against
// the sentinels ([ErrFileNotFound], [ErrResourceMissing], ...).
//
// # Thread Safety
//
// The native engine is not re-entrant. Use a System and everything derived
// from it from one goroutine at a time. Native calls made through one System
// are serialized internally so that finalizers releasing leaked handles
// cannot race the owner, but this does not make concurrent synthesis useful.
package pico
