/*
 * Copyright 2026 JustProSound.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import (
	"fmt"
	"time"
)

// DeviceEventType tags events emitted by the registry after successful
// commits. Consumers (broadcast/websocket layer) subscribe by type.
type DeviceEventType string

const (
	EventDeviceRegistered       DeviceEventType = "device_registered"
	EventDeviceUpdated          DeviceEventType = "device_updated"
	EventDeviceMovementDetected DeviceEventType = "device_movement_detected"
	EventDeviceConflictQueued   DeviceEventType = "device_conflict_queued"
)

// DeviceEventData is the payload carried by registry events.
type DeviceEventData struct {
	Type           DeviceEventType `json:"type"`
	DeviceID       string          `json:"device_id,omitempty"`
	QueueEntryID   string          `json:"queue_entry_id,omitempty"`
	Classification Classification  `json:"classification"`
	Manufacturer   string          `json:"manufacturer,omitempty"`
	IP             string          `json:"ip,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// CloudEvent represents a CloudEvents v1.0 compliant event envelope.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	ID              string      `json:"id"`
	Source          string      `json:"source"`
	Type            string      `json:"type"`
	DataContentType string      `json:"datacontenttype"`
	Subject         string      `json:"subject,omitempty"`
	Time            *time.Time  `json:"time,omitempty"`
	Data            interface{} `json:"data,omitempty"`
}

// EventsConfig configures the event publishing system.
type EventsConfig struct {
	Enabled    bool     `json:"enabled"`
	StreamName string   `json:"stream_name"`
	Subjects   []string `json:"subjects"`
}

// Validate ensures the events configuration is valid.
func (c *EventsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.StreamName == "" {
		c.StreamName = "events"
	}

	if len(c.Subjects) == 0 {
		c.Subjects = []string{"events.device.*"}
	}

	return nil
}

// NATSConfig configures the NATS JetStream connection.
type NATSConfig struct {
	URL    string `json:"url"`
	Domain string `json:"domain,omitempty"`
}

// Validate ensures the NATS configuration is valid.
func (c *NATSConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("nats url is required")
	}

	return nil
}
